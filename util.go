// Copyright (c) 2026 The meridiandb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite

import (
	"errors"
	"fmt"
	"io"
)

// DropAll deletes all the data from a database.
//
// The schemaName parameter follows the SQLite PRAGMA schema-name
// conventions: https://sqlite.org/pragma.html#syntax
func DropAll(conn *Conn, schemaName string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("sqlite.DropAll: %w", err)
		}
	}()

	if schemaName == "" {
		schemaName = "main"
	}

	var indexes, tables, triggers, views []string

	cur, err := conn.Execute(fmt.Sprintf("SELECT name, type FROM %q.sqlite_schema", schemaName), nil)
	if err != nil {
		return err
	}
	for {
		row, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cur.Close(true)
			return err
		}
		name, sqlType := row[0].(string), row[1].(string)
		switch sqlType {
		case "index":
			indexes = append(indexes, name)
		case "table":
			tables = append(tables, name)
		case "trigger":
			triggers = append(triggers, name)
		case "view":
			views = append(views, name)
		default:
			cur.Close(true)
			return fmt.Errorf("unknown sqlite schema type %q for %q", sqlType, name)
		}
	}
	if err := cur.Close(false); err != nil {
		return err
	}

	for _, name := range indexes {
		if err := execAll(conn, fmt.Sprintf("DROP INDEX %q.%q", schemaName, name)); err != nil {
			return err
		}
	}
	for _, name := range triggers {
		if err := execAll(conn, fmt.Sprintf("DROP TRIGGER %q.%q", schemaName, name)); err != nil {
			return err
		}
	}
	for _, name := range views {
		if err := execAll(conn, fmt.Sprintf("DROP VIEW %q.%q", schemaName, name)); err != nil {
			return err
		}
	}
	for _, name := range tables {
		if err := execAll(conn, fmt.Sprintf("DROP TABLE %q.%q", schemaName, name)); err != nil {
			return err
		}
	}
	return nil
}

// CopyAll copies the contents of one schema to another on the same
// connection.
//
// Traditionally this is done in sqlite by closing the database and copying
// the file. However it can be useful to do it online: a single exclusive
// transaction can cross multiple databases, and if multiple processes are
// using a file, this lets one replace the database without first
// communicating with the other processes, asking them to close the DB first.
//
// The dstSchemaName and srcSchemaName parameters follow the SQLite PRAGMA
// schema-name conventions: https://sqlite.org/pragma.html#syntax
func CopyAll(conn *Conn, dstSchemaName, srcSchemaName string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("sqlite.CopyAll: %w", err)
		}
	}()
	if dstSchemaName == "" {
		dstSchemaName = "main"
	}
	if srcSchemaName == "" {
		srcSchemaName = "main"
	}
	if dstSchemaName == srcSchemaName {
		return fmt.Errorf("source matches destination: %q", srcSchemaName)
	}
	// Filter on sql to avoid auto indexes.
	// See https://www.sqlite.org/schematab.html for sqlite_schema docs.
	cur, err := conn.Execute(fmt.Sprintf("SELECT name, type, sql FROM %q.sqlite_schema WHERE sql != ''", srcSchemaName), nil)
	if err != nil {
		return err
	}
	type schemaObj struct {
		name, sqlType, sqlText string
	}
	var objs []schemaObj
	for {
		row, err := cur.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cur.Close(true)
			return err
		}
		objs = append(objs, schemaObj{row[0].(string), row[1].(string), row[2].(string)})
	}
	if err := cur.Close(false); err != nil {
		return err
	}
	for _, o := range objs {
		// Regardless of the case or whitespace used in the original
		// create statement (or whether or not "if not exists" is used),
		// the SQL text in the sqlite_schema table always reads:
		// 	"CREATE (TABLE|VIEW|INDEX|TRIGGER) name".
		// We take advantage of that here to rewrite the create
		// statement for a different schema.
		prefix := map[string]string{
			"index":   "CREATE INDEX ",
			"table":   "CREATE TABLE ",
			"trigger": "CREATE TRIGGER ",
			"view":    "CREATE VIEW ",
		}[o.sqlType]
		if prefix == "" {
			return fmt.Errorf("unknown sqlite schema type %q for %q", o.sqlType, o.name)
		}
		if len(o.sqlText) < len(prefix) {
			return fmt.Errorf("malformed schema sql for %q: %q", o.name, o.sqlText)
		}
		sqlText := fmt.Sprintf("%s%q.%s", prefix, dstSchemaName, o.sqlText[len(prefix):])
		if err := execAll(conn, sqlText); err != nil {
			return err
		}
		if o.sqlType == "table" {
			q := fmt.Sprintf("INSERT INTO %q.%q SELECT * FROM %q.%q;", dstSchemaName, o.name, srcSchemaName, o.name)
			if err := execAll(conn, q); err != nil {
				return err
			}
		}
	}
	return nil
}

// execAll runs queries to completion and discards any rows.
func execAll(conn *Conn, queries string) error {
	cur, err := conn.Execute(queries, nil)
	if err != nil {
		return err
	}
	for {
		if _, err := cur.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			cur.Close(true)
			return err
		}
	}
	return cur.Close(false)
}
