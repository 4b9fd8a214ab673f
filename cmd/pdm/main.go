package main

import "github.com/pdm-project/pdm/internal/cli"

func main() {
	cli.Execute()
}
