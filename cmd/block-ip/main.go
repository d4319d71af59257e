package main

import (
	"os"

	"iptracker/internal/app"
)

func main() {
	os.Exit(app.RunBlockIP(os.Args[1:], os.Stdout, os.Stderr))
}
