package main

import (
	"github.com/trezcool/nambari/storage/database"
)

var gooseRunFunc = database.Migrate // mockable

func (cli *commandLine) migrate(args []string) error {
	db, err := cli.database()
	if err != nil {
		return err
	}
	return gooseRunFunc(db, args[0], args[1:]...)
}
