/*
 * Copyright 2023-2024 Daemon Protocol Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate"
	"github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
	dbconf "github.com/kthomas/go-db-config"

	"github.com/daemonprotocol/sip/common"
)

const defaultMigrationsDir = "./ops/migrations"

func main() {
	databaseName := os.Getenv("DATABASE_NAME")
	common.PanicIfEmpty(databaseName, "DATABASE_NAME is required")

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = defaultMigrationsDir
	}

	db := dbconf.DatabaseConnection().DB()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		common.Log.Panicf("failed to initialize postgres migration driver; %s", err.Error())
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsDir), databaseName, driver)
	if err != nil {
		common.Log.Panicf("failed to initialize migration source; %s", err.Error())
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		common.Log.Panicf("failed to apply migrations; %s", err.Error())
	}

	common.Log.Infof("database migrations applied from %s", migrationsDir)
}
