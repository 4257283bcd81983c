package main

import (
	"fx-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
