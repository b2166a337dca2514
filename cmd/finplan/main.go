package main

import "finplan/internal/cli"

func main() {
	cli.Execute()
}
