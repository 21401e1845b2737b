// Command site-acquirer crawls configured sites, scrapes structured records
// and stores them.
package main

import "github.com/JakeFAU/site-acquirer/cmd"

func main() {
	cmd.Execute()
}
