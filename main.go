// The main package for the geohints executable.
package main

import (
	"github.com/JakeFAU/geohints-scraper/cmd"
)

func main() {
	cmd.Execute()
}
