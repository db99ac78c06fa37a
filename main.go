package main

import "dictabridge/internal/cli"

func main() {
	cli.Execute()
}
