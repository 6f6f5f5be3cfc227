// The main package for the newsingest executable.
package main

import (
	"github.com/JakeFAU/realtime-news-ingest/cmd"
)

func main() {
	cmd.Execute()
}
