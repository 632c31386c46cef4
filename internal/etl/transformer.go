package etl

import (
	"github.com/BartekS5/moviesync/pkg/models"
	"github.com/BartekS5/moviesync/pkg/utils"
)

// Transformer maps source rows onto index documents. It does no I/O.
type Transformer struct{}

func NewTransformer() *Transformer {
	return &Transformer{}
}

// Transform builds the document for one row. Null aggregates become empty lists.
func (t *Transformer) Transform(row models.SourceRow) models.Document {
	return models.Document{
		ID:          row.ID,
		Title:       row.Title,
		Description: row.Description,
		IMDBRating:  row.Rating,
		Modified:    utils.FormatDateTime(row.Modified),
		Genres:      utils.NonNilStrings(row.Genres),
		Actors:      utils.NonNilStrings(row.Actors),
		Directors:   utils.NonNilStrings(row.Directors),
		Writers:     utils.NonNilStrings(row.Writers),
	}
}

// TransformBatch transforms rows in order.
func (t *Transformer) TransformBatch(rows []models.SourceRow) []models.Document {
	docs := make([]models.Document, len(rows))
	for i, row := range rows {
		docs[i] = t.Transform(row)
	}
	return docs
}
