package main

import "competition-engine/cli"

func main() {
	cli.Execute()
}
