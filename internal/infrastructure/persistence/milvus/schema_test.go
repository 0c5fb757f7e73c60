package milvus

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentChunksSchema(t *testing.T) {
	schema := DocumentChunksSchema(768)
	require.Len(t, schema.Fields, 4)

	var vector *entity.Field
	for _, f := range schema.Fields {
		if f.Name == fieldVector {
			vector = f
		}
	}
	require.NotNil(t, vector)
	assert.Equal(t, "768", vector.TypeParams["dim"])
	assert.True(t, schema.Fields[0].PrimaryKey)
}

func TestDocKeyFilterQuotes(t *testing.T) {
	assert.Equal(t, `doc_key == "doc-1@2"`, docKeyFilter("doc-1@2"))
	assert.Equal(t, `doc_key == "a\"b@1"`, docKeyFilter(`a"b@1`))
	assert.Equal(t, "doc-1@2#7", rowID("doc-1@2", 7))
}
