// Command stafftoken prints an argon2id hash for a staff token. The output
// goes into the STAFF_TOKEN_HASH environment variable of the API server.
package main

import (
	"fmt"
	"os"

	"github.com/alexedwards/argon2id"
)

func main() {
	if len(os.Args) != 2 || os.Args[1] == "" {
		fmt.Fprintln(os.Stderr, "usage: stafftoken <token>")
		os.Exit(2)
	}
	hash, err := argon2id.CreateHash(os.Args[1], argon2id.DefaultParams)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
