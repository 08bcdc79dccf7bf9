package main

import (
	"flag"
	"log"

	"github.com/danmuck/framestream/internal/config"
	logs "github.com/danmuck/framestream/internal/logging"
)

func main() {
	manifest := flag.String("manifest", "", "fixture manifest path (writes the built-in fixtures when empty)")
	writeTemplate := flag.String("template", "", "write a manifest template to this path and exit")
	validate := flag.Bool("validate", false, "validate the manifest without writing fixtures")
	force := flag.Bool("force", false, "overwrite an existing template")
	flag.Parse()

	logs.ConfigureRuntime()

	if *writeTemplate != "" {
		if err := config.WriteTemplate(*writeTemplate, "fixtures", *force); err != nil {
			log.Fatal(err)
		}
		log.Printf("Wrote fixtures template to %s", *writeTemplate)
		return
	}

	m, err := loadManifest(*manifest)
	if err != nil {
		log.Fatal(err)
	}
	if *validate {
		log.Printf("Validated fixture manifest with %d fixtures", len(m.Fixtures))
		return
	}

	written, err := generate(m)
	if err != nil {
		log.Fatal(err)
	}
	for _, path := range written {
		log.Printf("Wrote fixture %s", path)
	}
}
