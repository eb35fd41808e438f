package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/paulmach/orb/maptile"
)

const indexFile = ".index.db"

// Stats 缓存统计
type Stats struct {
	Root  string
	Tiles int64
	Bytes int64
	Zooms map[maptile.Zoom]int64
}

type entry struct {
	size int64
	sum  string
}

type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	// one connection keeps writers from tripping over each other
	db.SetMaxOpenConns(1)

	if err := optimizeConnection(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS tiles (
			source text,
			zoom_level integer,
			tile_column integer,
			tile_row integer,
			size integer,
			md5 text,
			created_at integer
		);
		CREATE UNIQUE INDEX IF NOT EXISTS tile_index ON tiles (source, zoom_level, tile_column, tile_row);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache index: %w", err)
	}
	return &index{db: db}, nil
}

func optimizeConnection(db *sql.DB) error {
	_, err := db.Exec("PRAGMA synchronous=NORMAL")
	if err != nil {
		return err
	}
	_, err = db.Exec("PRAGMA temp_store=MEMORY")
	return err
}

func (i *index) close() error {
	return i.db.Close()
}

func (i *index) get(source string, t maptile.Tile) (entry, bool, error) {
	var e entry
	err := i.db.QueryRow(
		"SELECT size, md5 FROM tiles WHERE source = ? AND zoom_level = ? AND tile_column = ? AND tile_row = ?",
		source, t.Z, t.X, t.Y,
	).Scan(&e.size, &e.sum)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	return e, true, nil
}

func (i *index) put(source string, t maptile.Tile, size int64, sum string) error {
	_, err := i.db.Exec(
		"INSERT OR REPLACE INTO tiles (source, zoom_level, tile_column, tile_row, size, md5, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		source, t.Z, t.X, t.Y, size, sum, time.Now().Unix(),
	)
	return err
}

func (i *index) remove(source string, t maptile.Tile) error {
	_, err := i.db.Exec(
		"DELETE FROM tiles WHERE source = ? AND zoom_level = ? AND tile_column = ? AND tile_row = ?",
		source, t.Z, t.X, t.Y,
	)
	return err
}

func (i *index) clear(source string) error {
	var err error
	if source == "" {
		_, err = i.db.Exec("DELETE FROM tiles")
	} else {
		_, err = i.db.Exec("DELETE FROM tiles WHERE source = ?", source)
	}
	return err
}

func (i *index) stats(source string) (Stats, error) {
	query := "SELECT zoom_level, COUNT(*), COALESCE(SUM(size), 0) FROM tiles"
	var args []interface{}
	if source != "" {
		query += " WHERE source = ?"
		args = append(args, source)
	}
	query += " GROUP BY zoom_level"

	rows, err := i.db.Query(query, args...)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st := Stats{Zooms: make(map[maptile.Zoom]int64)}
	for rows.Next() {
		var z maptile.Zoom
		var n, size int64
		if err := rows.Scan(&z, &n, &size); err != nil {
			return Stats{}, err
		}
		st.Zooms[z] = n
		st.Tiles += n
		st.Bytes += size
	}
	return st, rows.Err()
}
