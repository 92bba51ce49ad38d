package dump

import (
	"github.com/google/uuid"
	"github.com/solatis/annotator/internal/types"
)

// Collection names exposed to quantifiers.
const (
	CollectionInfo      = "DumpInfo"
	CollectionThreads   = "Threads"
	CollectionCallStack = "CallStack"
)

// File is one uploaded crash dump.
type File struct {
	RequestID  uuid.UUID `json:"requestId"`
	FileGUID   uuid.UUID `json:"fileGuid"`
	ServerName string    `json:"serverName"`
	ID         int64     `json:"identity"`
	Info       []*Info   `json:"dumpInfo"`
	Threads    []*Thread `json:"threads"`
}

// Info is one named property read from the dump header.
type Info struct {
	ID           int64  `json:"id"`
	PropertyName string `json:"propertyName"`
	QWord        int64  `json:"qword"`
	StringValue  string `json:"stringValue"`

	file *File
}

// Thread is one thread captured in the dump.
type Thread struct {
	ID                  int64    `json:"id"`
	ProcessID           *int64   `json:"processId"`
	UniqueThreadID      *int64   `json:"uniqueThreadId"`
	CallStack           []*Frame `json:"callStack"`
	IsHandlingException bool     `json:"isHandlingException"`

	file *File
}

// Frame is one call-stack frame; Frame 0 is the innermost.
type Frame struct {
	ID             int64  `json:"id"`
	Frame          int    `json:"frame"`
	ModuleName     string `json:"moduleName"`
	FunctionName   string `json:"functionName"`
	FunctionOffset int    `json:"functionOffset"`
	Param1         int64  `json:"param1"`
	Param2         int64  `json:"param2"`
	Param3         int64  `json:"param3"`
	Param4         int64  `json:"param4"`

	file   *File
	thread *Thread
}

var (
	_ types.Fact = (*File)(nil)
	_ types.Fact = (*Info)(nil)
	_ types.Fact = (*Thread)(nil)
	_ types.Fact = (*Frame)(nil)
)

func (f *File) Identity() int64         { return f.ID }
func (f *File) Type() *types.ObjectType { return fileType }
func (f *File) Container() any          { return f }

func (f *File) Attribute(name string) (any, bool) {
	switch name {
	case "RequestId":
		return f.RequestID, true
	case "FileGuid":
		return f.FileGUID, true
	case "ServerName":
		return f.ServerName, true
	case "Identity":
		return f.ID, true
	}
	return nil, false
}

func (f *File) Collection(name string) ([]types.Fact, bool) {
	switch name {
	case CollectionInfo:
		return facts(f.Info), true
	case CollectionThreads:
		return facts(f.Threads), true
	}
	return nil, false
}

func (i *Info) Identity() int64         { return i.ID }
func (i *Info) Type() *types.ObjectType { return infoType }
func (i *Info) Container() any          { return i.file }

func (i *Info) Attribute(name string) (any, bool) {
	switch name {
	case "Id":
		return i.ID, true
	case "PropertyName":
		return i.PropertyName, true
	case "QWord":
		return i.QWord, true
	case "StringValue":
		return i.StringValue, true
	}
	return nil, false
}

func (*Info) Collection(string) ([]types.Fact, bool) { return nil, false }

func (t *Thread) Identity() int64         { return t.ID }
func (t *Thread) Type() *types.ObjectType { return threadType }
func (t *Thread) Container() any          { return t.file }

func (t *Thread) Attribute(name string) (any, bool) {
	switch name {
	case "Id":
		return t.ID, true
	case "ProcessId":
		return optional(t.ProcessID), true
	case "UniqueThreadId":
		return optional(t.UniqueThreadID), true
	case "IsHandlingException":
		return t.IsHandlingException, true
	}
	return nil, false
}

func (t *Thread) Collection(name string) ([]types.Fact, bool) {
	if name == CollectionCallStack {
		return facts(t.CallStack), true
	}
	return nil, false
}

func (fr *Frame) Identity() int64         { return fr.ID }
func (fr *Frame) Type() *types.ObjectType { return frameType }
func (fr *Frame) Container() any          { return fr.file }

// Thread returns the thread whose call stack holds the frame.
func (fr *Frame) Thread() *Thread { return fr.thread }

func (fr *Frame) Attribute(name string) (any, bool) {
	switch name {
	case "Id":
		return fr.ID, true
	case "Frame":
		return int64(fr.Frame), true
	case "ModuleName":
		return fr.ModuleName, true
	case "FunctionName":
		return fr.FunctionName, true
	case "FunctionOffset":
		return int64(fr.FunctionOffset), true
	case "Param1":
		return fr.Param1, true
	case "Param2":
		return fr.Param2, true
	case "Param3":
		return fr.Param3, true
	case "Param4":
		return fr.Param4, true
	}
	return nil, false
}

func (*Frame) Collection(string) ([]types.Fact, bool) { return nil, false }

// optional maps a nil pointer to an untyped nil so evaluation sees "no value".
func optional(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func facts[T types.Fact](items []T) []types.Fact {
	out := make([]types.Fact, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
