package mongostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/jacentio/grove/store"
)

func TestSortDoc(t *testing.T) {
	got := sortDoc([]store.SortField{{Field: "a", Direction: store.Asc}, {Field: "b", Direction: store.Desc}})
	assert.Equal(t, bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(-1)}}, got)
}

func TestFilterDoc_NilBecomesEmpty(t *testing.T) {
	assert.Equal(t, bson.D{}, filterDoc(nil))
}

func TestIndexSpec(t *testing.T) {
	tests := []struct {
		name string
		spec indexSpec
		want store.Index
	}{
		{
			name: "compound",
			spec: indexSpec{Name: "a_1_b_-1", Key: bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: float64(-1)}}, Unique: true},
			want: store.Index{Name: "a_1_b_-1", Unique: true, Keys: []store.IndexKey{
				{Field: "a", Kind: store.Ascending},
				{Field: "b", Kind: store.Descending},
			}},
		},
		{
			name: "text",
			spec: indexSpec{
				Name:             "title_text",
				Key:              bson.D{{Key: "_fts", Value: "text"}, {Key: "_ftsx", Value: int32(1)}},
				Weights:          bson.D{{Key: "title", Value: int32(1)}},
				LanguageOverride: "language_db",
			},
			want: store.Index{Name: "title_text", LanguageOverride: "language_db", Keys: []store.IndexKey{
				{Field: "title", Kind: store.Text},
			}},
		},
		{
			name: "geo",
			spec: indexSpec{Name: "loc_2dsphere", Key: bson.D{{Key: "loc", Value: "2dsphere"}}},
			want: store.Index{Name: "loc_2dsphere", Keys: []store.IndexKey{{Field: "loc", Kind: store.GeoSphere}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.index())
		})
	}
}
