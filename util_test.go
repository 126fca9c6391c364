// Copyright (c) 2026 The meridiandb Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sqlite

import (
	"testing"
)

const testSchema = `
	CREATE TABLE customer (
		cust_id INTEGER PRIMARY KEY,
		cust_name TEXT,
		cust_addr TEXT
	);
	CREATE INDEX custname ON customer (cust_name);
	CREATE VIEW customer_address AS
		SELECT cust_id, cust_addr FROM customer;
	CREATE TRIGGER cust_addr_chng
	INSTEAD OF UPDATE OF cust_addr ON customer_address
	BEGIN
		UPDATE customer SET cust_addr=NEW.cust_addr
			WHERE cust_id=NEW.cust_id;
	END;

	-- Creates an auto-index we cannot delete.
	CREATE TABLE textkey (key TEXT PRIMARY KEY, val INTEGER);
`

func TestDropAll(t *testing.T) {
	conn := openTestConn(t)
	if err := execAll(conn, `
		ATTACH 'file:s1?mode=memory' AS "db two";
		BEGIN;
		CREATE TABLE "db two".customer (
			cust_id INTEGER PRIMARY KEY,
			cust_name TEXT,
			cust_addr TEXT
		);
		CREATE INDEX "db two".custname ON customer (cust_name);
		CREATE VIEW "db two".customer_address AS
			SELECT cust_id, cust_addr FROM "db two".customer;

		-- Creates an auto-index we cannot delete.
		CREATE TABLE "db two".textkey (key TEXT PRIMARY KEY, val INTEGER);

		CREATE TABLE customer (cust_id INTEGER PRIMARY KEY, cust_name TEXT);
		COMMIT;`); err != nil {
		t.Fatal(err)
	}

	if err := DropAll(conn, "db two"); err != nil {
		t.Fatal(err)
	}
	rows := queryAll(t, conn, `SELECT count(*) FROM "db two".sqlite_schema`, nil)
	if rows[0][0] != int64(0) {
		t.Errorf(`"db two" schema count = %v, want 0`, rows[0][0])
	}
	// The main schema is untouched.
	rows = queryAll(t, conn, "SELECT count(*) FROM sqlite_schema WHERE name = 'customer'", nil)
	if rows[0][0] != int64(1) {
		t.Errorf("main schema lost customer table")
	}
}

func TestCopyAll(t *testing.T) {
	conn := openTestConn(t)
	if err := execAll(conn, "ATTACH 'file:s2?mode=memory' AS dst;"+testSchema); err != nil {
		t.Fatal(err)
	}
	mustExec(t, conn, "INSERT INTO customer (cust_name, cust_addr) VALUES ('ada', 'cambridge')", nil)
	mustExec(t, conn, "INSERT INTO customer (cust_name, cust_addr) VALUES ('grace', 'arlington')", nil)

	if err := CopyAll(conn, "dst", "main"); err != nil {
		t.Fatal(err)
	}
	rows := queryAll(t, conn, "SELECT cust_name FROM dst.customer ORDER BY cust_id", nil)
	if len(rows) != 2 || rows[0][0] != "ada" || rows[1][0] != "grace" {
		t.Errorf("copied rows = %v", rows)
	}
	// Views, indexes, and triggers came across too.
	rows = queryAll(t, conn, "SELECT count(*) FROM dst.sqlite_schema WHERE sql != ''", nil)
	if rows[0][0].(int64) < 5 {
		t.Errorf("dst schema objects = %v, want at least 5", rows[0][0])
	}
}

func TestCopyAllRejectsSameSchema(t *testing.T) {
	conn := openTestConn(t)
	if err := CopyAll(conn, "main", ""); err == nil {
		t.Fatal("CopyAll onto itself succeeded")
	}
}
