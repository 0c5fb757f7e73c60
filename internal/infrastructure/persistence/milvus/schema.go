package milvus

import (
	"strconv"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	// CollectionDocumentChunks 文档分块向量集合
	CollectionDocumentChunks = "document_chunks"

	fieldID       = "id"
	fieldDocKey   = "doc_key"
	fieldPosition = "position"
	fieldVector   = "vector"
)

// DocumentChunksSchema 按 doc_key（文档@版本）区分版本，position 为索引内位置
func DocumentChunksSchema(dimension int) *entity.Schema {
	return &entity.Schema{
		CollectionName: CollectionDocumentChunks,
		Description:    "Per-version document chunk vectors",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "160",
				},
			},
			{
				Name:     fieldDocKey,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     fieldPosition,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     fieldVector,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(dimension),
				},
			},
		},
	}
}

// rowID 主键：doc_key#position
func rowID(docKey string, position int64) string {
	return docKey + "#" + strconv.FormatInt(position, 10)
}
