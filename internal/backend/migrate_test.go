/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsSortsAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0010_later.sql":  {Data: []byte("ALTER TABLE renders ADD COLUMN x INT;")},
		"m/0002_second.sql": {Data: []byte("CREATE INDEX i ON renders(key);")},
		"m/0001_first.sql":  {Data: []byte("CREATE TABLE renders(key TEXT);")},
		"m/0003_blank.sql":  {Data: []byte("  \n")},
		"m/README.md":       {Data: []byte("not sql")},
	}
	got, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	var names []string
	for _, m := range got {
		names = append(names, m.name)
	}
	if strings.Join(names, ",") != "0001_first.sql,0002_second.sql,0010_later.sql" {
		t.Fatalf("order = %v", names)
	}
}

func TestLoadMigrationsRejectsDuplicates(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("SELECT 1;")},
		"m/1_b.sql":    {Data: []byte("SELECT 2;")},
	}
	if _, err := loadMigrations(fsys, "m"); err == nil || !strings.Contains(err.Error(), "share version 1") {
		t.Fatalf("err = %v", err)
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	got, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(got) < 2 || got[0].version != 1 || got[1].version != 2 {
		t.Fatalf("embedded migrations = %+v", got)
	}
}

func TestPendingSkipsApplied(t *testing.T) {
	all := []migration{{version: 1, name: "a"}, {version: 2, name: "b"}, {version: 3, name: "c"}}
	got := pending(all, map[int64]bool{1: true, 3: true})
	if len(got) != 1 || got[0].name != "b" {
		t.Fatalf("pending = %+v", got)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("0002_render_hits.sql"); err != nil || v != 2 {
		t.Fatalf("parseVersion = %d, %v", v, err)
	}
	for _, bad := range []string{"nope.sql", "x_name.sql"} {
		if _, err := parseVersion(bad); err == nil {
			t.Errorf("parseVersion(%q) succeeded", bad)
		}
	}
}
