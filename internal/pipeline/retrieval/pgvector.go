package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/pgvector/pgvector-go"

	apperrors "legal-rag-workers/internal/common/errors"
	"legal-rag-workers/internal/models"
)

const DefaultVectorTable = "legal_chunks"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PGVectorSearcher is the dense searcher over a pgvector table, scored by
// cosine similarity.
type PGVectorSearcher struct {
	db       *sql.DB
	embedder Embedder
	query    string
}

func NewPGVectorSearcher(db *sql.DB, embedder Embedder, table string) (*PGVectorSearcher, error) {
	if table == "" {
		table = DefaultVectorTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid vector table name %q", table)
	}
	return &PGVectorSearcher{
		db:       db,
		embedder: embedder,
		query: fmt.Sprintf(`SELECT id, document_id, content, case_title, article_title, legislation_title,
       citation, court, jurisdiction, year, 1 - (embedding <=> $1) AS score
FROM %s
ORDER BY embedding <=> $1
LIMIT $2`, table),
	}, nil
}

func (s *PGVectorSearcher) Search(ctx context.Context, query string, topK int) ([]models.DocumentHit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.query, pgvector.NewVector(vec), topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, apperrors.NewUpstreamTimeoutError("postgres", err)
		}
		return nil, apperrors.NewUpstreamUnavailableError("postgres", err)
	}
	defer rows.Close()

	hits := make([]models.DocumentHit, 0, topK)
	for rows.Next() {
		var (
			id                                   string
			documentID, content                  sql.NullString
			caseTitle, articleTitle, legislation sql.NullString
			citation, court, jurisdiction        sql.NullString
			year                                 sql.NullInt64
			score                                float64
		)
		if err := rows.Scan(&id, &documentID, &content, &caseTitle, &articleTitle, &legislation,
			&citation, &court, &jurisdiction, &year, &score); err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("scan vector row: %w", err))
		}

		fields := map[string]interface{}{
			"case_title":        caseTitle.String,
			"article_title":     articleTitle.String,
			"legislation_title": legislation.String,
			"citation":          citation.String,
			"court":             court.String,
			"jurisdiction":      jurisdiction.String,
		}
		if year.Valid {
			fields["year"] = year.Int64
		}
		docID := documentID.String
		if docID == "" {
			docID = id
		}
		hits = append(hits, models.DocumentHit{
			ID:       id,
			Score:    score,
			Content:  content.String,
			Metadata: models.MetadataFromFields(docID, fields),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewUpstreamUnavailableError("postgres", err)
	}
	return hits, nil
}
