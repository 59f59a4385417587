package main

import "deepfake-detector/client/internal/presentation/cli"

func main() {
	cli.Execute()
}
