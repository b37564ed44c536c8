package strata_test

import (
	"fmt"
	"log"
	"os"

	"github.com/colinwhite/strata"
)

func Example() {
	dir, err := os.MkdirTemp("", "strata-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	db, err := strata.Open(dir)
	if err != nil {
		log.Fatal(err)
	}

	if err = db.Set("name", "Moist von Lipwig"); err != nil {
		log.Fatal(err)
	}

	name, err := db.Get("name")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(name)
	// Output:
	// Moist von Lipwig

	if err = db.Close(); err != nil {
		log.Fatal(err)
	}
}
