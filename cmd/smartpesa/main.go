package main

import "smartpesa/internal/cli"

func main() {
	cli.Execute()
}
