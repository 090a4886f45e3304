package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docgate/internal/apperr"
	"github.com/hyperjump/docgate/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SQLiteStorage implements Storage on a single SQLite file. Documents are kept as
// canonical extended JSON so numeric kinds, dates and object ids survive a round trip.
// Filtering runs in process with Match.
type SQLiteStorage struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		database_name TEXT NOT NULL,
		collection_name TEXT NOT NULL,
		doc_id TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (database_name, collection_name, doc_id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(database_name, collection_name, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Collection returns a handle on ref.
func (s *SQLiteStorage) Collection(ref Ref) Collection {
	return &sqliteCollection{store: s, ref: ref}
}

// CollectionExists reports whether ref holds at least one document.
func (s *SQLiteStorage) CollectionExists(ctx context.Context, ref Ref) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM documents WHERE database_name = ? AND collection_name = ? LIMIT 1`,
		ref.Database, ref.Collection,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperr.Store(err, "collection exists")
	}
	return true, nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStorage) Close(context.Context) error {
	return s.db.Close()
}

type sqliteCollection struct {
	store *SQLiteStorage
	ref   Ref
}

type sqliteRow struct {
	seq int64
	doc models.Document
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (c *sqliteCollection) load(ctx context.Context, q queryer) ([]sqliteRow, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT seq, body FROM documents
		 WHERE database_name = ? AND collection_name = ? ORDER BY seq`,
		c.ref.Database, c.ref.Collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqliteRow
	for rows.Next() {
		var r sqliteRow
		var body string
		if err := rows.Scan(&r.seq, &body); err != nil {
			return nil, err
		}
		r.doc, err = decodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %d: %w", r.seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *sqliteCollection) docs(ctx context.Context) ([]models.Document, error) {
	rows, err := c.load(ctx, c.store.db)
	if err != nil {
		return nil, err
	}
	docs := make([]models.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docs, nil
}

func (c *sqliteCollection) Find(ctx context.Context, filter bson.D, opts FindOptions) ([]models.Document, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return nil, apperr.Store(err, "find")
	}
	out, err := findIn(docs, filter, opts)
	return out, apperr.Store(err, "find")
}

func (c *sqliteCollection) FindOne(ctx context.Context, filter bson.D) (models.Document, error) {
	docs, err := c.Find(ctx, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, apperr.NotFound("document not found")
	}
	return docs[0], nil
}

func (c *sqliteCollection) Count(ctx context.Context, filter bson.D) (int64, error) {
	if len(filter) == 0 {
		var n int64
		err := c.store.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM documents WHERE database_name = ? AND collection_name = ?`,
			c.ref.Database, c.ref.Collection,
		).Scan(&n)
		return n, apperr.Store(err, "count")
	}
	docs, err := c.docs(ctx)
	if err != nil {
		return 0, apperr.Store(err, "count")
	}
	n, err := countIn(docs, filter)
	return n, apperr.Store(err, "count")
}

func (c *sqliteCollection) Distinct(ctx context.Context, field string, filter bson.D) ([]interface{}, error) {
	docs, err := c.docs(ctx)
	if err != nil {
		return nil, apperr.Store(err, "distinct")
	}
	values, err := distinctIn(docs, field, filter)
	return values, apperr.Store(err, "distinct")
}

func (c *sqliteCollection) InsertOne(ctx context.Context, doc models.Document) (interface{}, error) {
	stored := cloneDoc(doc)
	id := ensureID(stored)
	if err := c.insert(ctx, []models.Document{stored}); err != nil {
		return nil, apperr.Store(err, "insert")
	}
	return id, nil
}

// InsertMany writes docs in one transaction.
func (c *sqliteCollection) InsertMany(ctx context.Context, docs []models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := make([]models.Document, len(docs))
	for i, d := range docs {
		batch[i] = cloneDoc(d)
		ensureID(batch[i])
	}
	return apperr.Store(c.insert(ctx, batch), "insert many")
}

func (c *sqliteCollection) insert(ctx context.Context, docs []models.Document) error {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents (database_name, collection_name, doc_id, body) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		body, err := encodeBody(d)
		if err != nil {
			return err
		}
		id := d[models.IDField]
		if _, err := stmt.ExecContext(ctx, c.ref.Database, c.ref.Collection, IDString(id), body); err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return errDuplicateKey(id)
			}
			return err
		}
	}
	return tx.Commit()
}

func (c *sqliteCollection) UpdateOne(ctx context.Context, filter bson.D, set models.Document) (UpdateResult, error) {
	res, err := c.BulkUpdate(ctx, []UpdateOp{{Filter: filter, Set: set}})
	return res, err
}

// BulkUpdate applies ops in order inside one transaction.
func (c *sqliteCollection) BulkUpdate(ctx context.Context, ops []UpdateOp) (UpdateResult, error) {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	var total UpdateResult
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return total, apperr.Store(err, "update")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := c.load(ctx, tx)
	if err != nil {
		return total, apperr.Store(err, "update")
	}
	for _, op := range ops {
		for _, r := range rows {
			ok, err := Match(r.doc, op.Filter)
			if err != nil {
				return UpdateResult{}, apperr.Store(err, "update")
			}
			if !ok {
				continue
			}
			total.Matched++
			if applySet(r.doc, op.Set) {
				total.Modified++
				body, err := encodeBody(r.doc)
				if err != nil {
					return UpdateResult{}, apperr.Store(err, "update")
				}
				if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = ? WHERE seq = ?`, body, r.seq); err != nil {
					return UpdateResult{}, apperr.Store(err, "update")
				}
			}
			break
		}
	}
	if err := tx.Commit(); err != nil {
		return UpdateResult{}, apperr.Store(err, "update")
	}
	return total, nil
}

func (c *sqliteCollection) DeleteOne(ctx context.Context, filter bson.D) (int64, error) {
	return c.delete(ctx, filter, 1)
}

func (c *sqliteCollection) DeleteMany(ctx context.Context, filter bson.D) (int64, error) {
	return c.delete(ctx, filter, -1)
}

func (c *sqliteCollection) delete(ctx context.Context, filter bson.D, max int) (int64, error) {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Store(err, "delete")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := c.load(ctx, tx)
	if err != nil {
		return 0, apperr.Store(err, "delete")
	}
	var deleted int64
	for _, r := range rows {
		if max >= 0 && deleted >= int64(max) {
			break
		}
		ok, err := Match(r.doc, filter)
		if err != nil {
			return 0, apperr.Store(err, "delete")
		}
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE seq = ?`, r.seq); err != nil {
			return 0, apperr.Store(err, "delete")
		}
		deleted++
	}
	if err := tx.Commit(); err != nil {
		return 0, apperr.Store(err, "delete")
	}
	return deleted, nil
}

func encodeBody(doc models.Document) (string, error) {
	data, err := bson.MarshalExtJSON(bson.M(doc), true, false)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(data), nil
}

func decodeBody(body string) (models.Document, error) {
	var m bson.M
	if err := bson.UnmarshalExtJSON([]byte(body), true, &m); err != nil {
		return nil, err
	}
	return models.Document(fromBSON(m).(map[string]interface{})), nil
}

// fromBSON converts decoded BSON values into the plain Go values the matcher and API use.
// Object ids are kept so identifier filters keep matching.
func fromBSON(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = fromBSON(item)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = fromBSON(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case int32:
		return int64(val)
	default:
		return v
	}
}
