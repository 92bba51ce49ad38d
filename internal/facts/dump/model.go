// Package dump is the crash-dump fact model: a dump file with its
// key/value info records and its threads, each thread carrying a call stack.
package dump

import (
	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

// Stored identities of the dump model. Rules reference these ids, so they
// never change.
var (
	ModelTypeID  = uuid.MustParse("d24ba939-b492-40cc-91e7-7fea8904fd02")
	FileTypeID   = uuid.MustParse("3be6c2a8-c0f8-4ab5-9097-cdc33920fbbc")
	InfoTypeID   = uuid.MustParse("355b1e71-5977-4276-bc5a-5700357a0abc")
	FrameTypeID  = uuid.MustParse("e3134689-8fd5-4b4b-aec2-aa6383e4b0d8")
	ThreadTypeID = uuid.MustParse("fc628e31-5d94-4351-bd09-60a5c2011d87")
)

// ModelName is the registered name of the dump model.
const ModelName = "DumpFile"

var (
	fileType   = &types.ObjectType{ID: FileTypeID, ModelTypeID: ModelTypeID, Name: "DumpFile"}
	infoType   = &types.ObjectType{ID: InfoTypeID, ModelTypeID: ModelTypeID, Name: "DumpInfo"}
	frameType  = &types.ObjectType{ID: FrameTypeID, ModelTypeID: ModelTypeID, Name: "FunctionCallInfo"}
	threadType = &types.ObjectType{ID: ThreadTypeID, ModelTypeID: ModelTypeID, Name: "ThreadInfo"}

	model = &types.ModelType{
		ID:          ModelTypeID,
		Name:        ModelName,
		ObjectTypes: []*types.ObjectType{fileType, infoType, frameType, threadType},
	}
)

// Model returns the dump model type. The returned value is shared; callers
// must not modify it.
func Model() *types.ModelType {
	return model
}
