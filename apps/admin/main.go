package main

import (
	"database/sql"
	"log"
	"os"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		openDB: func() (*sql.DB, error) {
			return database.Open(conf)
		},
	}
	err := cli.run(os.Args)
	if cErr := cli.close(); cErr != nil {
		logger.Printf("closing database: %s\n", cErr)
	}
	if err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
