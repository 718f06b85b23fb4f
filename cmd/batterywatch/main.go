package main

import "batterywatch/internal/cli"

func main() {
	cli.Execute()
}
