package main

import "resolvify/cmd/cli"

func main() {
	cli.Execute()
}
