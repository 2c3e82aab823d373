package main

import "logbook/api/internal/cli"

func main() {
	cli.Execute()
}
