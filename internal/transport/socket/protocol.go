package socket

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

type Operation int32

const (
	OperationUnknown Operation = 0
	OperationPublish Operation = 1
	OperationSearch  Operation = 2
	OperationPing    Operation = 3
	OperationHealth  Operation = 4
)

type ErrorCode int32

const (
	ErrorCodeOK              ErrorCode = 0
	ErrorCodeBadRequest      ErrorCode = 1
	ErrorCodeUnauthenticated ErrorCode = 2
	ErrorCodeNotFound        ErrorCode = 3
	ErrorCodeOverloaded      ErrorCode = 4
	ErrorCodeInternal        ErrorCode = 5
	ErrorCodeUnavailable     ErrorCode = 6
)

type SocketRequest struct {
	RequestId string          `protobuf:"bytes,1,opt,name=request_id,json=requestId,proto3"`
	AuthToken string          `protobuf:"bytes,2,opt,name=auth_token,json=authToken,proto3"`
	Operation int32           `protobuf:"varint,3,opt,name=operation,proto3"`
	Publish   *PublishRequest `protobuf:"bytes,4,opt,name=publish,proto3"`
	Search    *SearchRequest  `protobuf:"bytes,5,opt,name=search,proto3"`
	Ping      *PingRequest    `protobuf:"bytes,6,opt,name=ping,proto3"`
}

func (*SocketRequest) Reset()         {}
func (*SocketRequest) String() string { return "SocketRequest" }
func (*SocketRequest) ProtoMessage()  {}

type SocketResponse struct {
	RequestId    string           `protobuf:"bytes,1,opt,name=request_id,json=requestId,proto3"`
	ErrorCode    int32            `protobuf:"varint,2,opt,name=error_code,json=errorCode,proto3"`
	ErrorMessage string           `protobuf:"bytes,3,opt,name=error_message,json=errorMessage,proto3"`
	Publish      *PublishResponse `protobuf:"bytes,4,opt,name=publish,proto3"`
	Pong         *PongResponse    `protobuf:"bytes,5,opt,name=pong,proto3"`
	Search       *SearchResponse  `protobuf:"bytes,6,opt,name=search,proto3"`
	Health       *HealthResponse  `protobuf:"bytes,7,opt,name=health,proto3"`
}

func (*SocketResponse) Reset()         {}
func (*SocketResponse) String() string { return "SocketResponse" }
func (*SocketResponse) ProtoMessage()  {}

type ChangeEvent struct {
	RecordId        int64  `protobuf:"varint,1,opt,name=record_id,json=recordId,proto3"`
	Kind            string `protobuf:"bytes,2,opt,name=kind,proto3"`
	EventId         string `protobuf:"bytes,3,opt,name=event_id,json=eventId,proto3"`
	OccurredAtUtcNs int64  `protobuf:"varint,4,opt,name=occurred_at_utc_ns,json=occurredAtUtcNs,proto3"`
}

func (*ChangeEvent) Reset()         {}
func (*ChangeEvent) String() string { return "ChangeEvent" }
func (*ChangeEvent) ProtoMessage()  {}

type PublishRequest struct {
	Event *ChangeEvent `protobuf:"bytes,1,opt,name=event,proto3"`
}

func (*PublishRequest) Reset()         {}
func (*PublishRequest) String() string { return "PublishRequest" }
func (*PublishRequest) ProtoMessage()  {}

type PublishResponse struct {
	Accepted    bool   `protobuf:"varint,1,opt,name=accepted,proto3"`
	PartitionId uint32 `protobuf:"varint,2,opt,name=partition_id,json=partitionId,proto3"`
}

func (*PublishResponse) Reset()         {}
func (*PublishResponse) String() string { return "PublishResponse" }
func (*PublishResponse) ProtoMessage()  {}

type SearchRequest struct {
	Keyword string `protobuf:"bytes,1,opt,name=keyword,proto3"`
	Page    int32  `protobuf:"varint,2,opt,name=page,proto3"`
	Size    int32  `protobuf:"varint,3,opt,name=size,proto3"`
}

func (*SearchRequest) Reset()         {}
func (*SearchRequest) String() string { return "SearchRequest" }
func (*SearchRequest) ProtoMessage()  {}

type Document struct {
	Id             int64  `protobuf:"varint,1,opt,name=id,proto3"`
	Title          string `protobuf:"bytes,2,opt,name=title,proto3"`
	Contents       string `protobuf:"bytes,3,opt,name=contents,proto3"`
	CreatedAtUtcNs int64  `protobuf:"varint,4,opt,name=created_at_utc_ns,json=createdAtUtcNs,proto3"`
	UpdatedAtUtcNs int64  `protobuf:"varint,5,opt,name=updated_at_utc_ns,json=updatedAtUtcNs,proto3"`
	Version        int64  `protobuf:"varint,6,opt,name=version,proto3"`
}

func (*Document) Reset()         {}
func (*Document) String() string { return "Document" }
func (*Document) ProtoMessage()  {}

type SearchResponse struct {
	TotalElements int64       `protobuf:"varint,1,opt,name=total_elements,json=totalElements,proto3"`
	TotalPages    int32       `protobuf:"varint,2,opt,name=total_pages,json=totalPages,proto3"`
	Number        int32       `protobuf:"varint,3,opt,name=number,proto3"`
	Size          int32       `protobuf:"varint,4,opt,name=size,proto3"`
	Documents     []*Document `protobuf:"bytes,5,rep,name=documents,proto3"`
}

func (*SearchResponse) Reset()         {}
func (*SearchResponse) String() string { return "SearchResponse" }
func (*SearchResponse) ProtoMessage()  {}

type PingRequest struct{}

func (*PingRequest) Reset()         {}
func (*PingRequest) String() string { return "PingRequest" }
func (*PingRequest) ProtoMessage()  {}

type PongResponse struct {
	UnixTimeNs int64 `protobuf:"varint,1,opt,name=unix_time_ns,json=unixTimeNs,proto3"`
}

func (*PongResponse) Reset()         {}
func (*PongResponse) String() string { return "PongResponse" }
func (*PongResponse) ProtoMessage()  {}

type HealthResponse struct {
	Ok      bool   `protobuf:"varint,1,opt,name=ok,proto3"`
	Message string `protobuf:"bytes,2,opt,name=message,proto3"`
}

func (*HealthResponse) Reset()         {}
func (*HealthResponse) String() string { return "HealthResponse" }
func (*HealthResponse) ProtoMessage()  {}

func MarshalMessage(msg proto.Message) ([]byte, error) { return proto.Marshal(msg) }

func UnmarshalRequest(payload []byte) (*SocketRequest, error) {
	var req SocketRequest
	if err := proto.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func UnmarshalResponse(payload []byte) (*SocketResponse, error) {
	var res SocketResponse
	if err := proto.Unmarshal(payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func ValidateRequest(req *SocketRequest) error {
	if req == nil {
		return fmt.Errorf("nil request")
	}
	switch Operation(req.Operation) {
	case OperationUnknown:
		return fmt.Errorf("operation is required")
	case OperationPublish:
		if req.Publish == nil || req.Publish.Event == nil {
			return fmt.Errorf("publish event required")
		}
	case OperationSearch:
		if req.Search == nil {
			return fmt.Errorf("search query required")
		}
	}
	return nil
}
