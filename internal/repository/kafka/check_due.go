package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/kafka"
	"github.com/NordCoder/Sentinel/internal/domain/task"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// CheckDue messages are protobuf Structs keyed by endpoint id:
//
//	{"handle": "<uuid>", "endpoint_id": "<uuid>", "due_at": "<RFC3339Nano>"}
const (
	fieldHandle     = "handle"
	fieldEndpointID = "endpoint_id"
	fieldDueAt      = "due_at"
)

type CheckEventsKafka struct {
	p *Producer
}

func NewCheckEventsKafka(p *Producer) *CheckEventsKafka { return &CheckEventsKafka{p: p} }

var _ kafka.CheckEvents = (*CheckEventsKafka)(nil)

func (e *CheckEventsKafka) PublishCheckDue(ctx context.Context, c task.Claim) error {
	msg, err := EncodeCheckDue(c)
	if err != nil {
		return err
	}
	return e.p.PublishProto(ctx, []byte(c.EndpointID.String()), msg)
}

func EncodeCheckDue(c task.Claim) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		fieldHandle:     c.Handle.String(),
		fieldEndpointID: c.EndpointID.String(),
		fieldDueAt:      c.DueAt.UTC().Format(time.RFC3339Nano),
	})
}

func DecodeCheckDue(s *structpb.Struct) (task.Claim, error) {
	f := s.GetFields()
	h := f[fieldHandle].GetStringValue()
	if h == "" {
		return task.Claim{}, fmt.Errorf("check due: missing %s", fieldHandle)
	}
	id, err := uuid.Parse(f[fieldEndpointID].GetStringValue())
	if err != nil {
		return task.Claim{}, fmt.Errorf("check due: %s: %w", fieldEndpointID, err)
	}
	c := task.Claim{Handle: task.Handle(h), Descriptor: task.Descriptor{EndpointID: id}}
	if v := f[fieldDueAt].GetStringValue(); v != "" {
		if c.DueAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return task.Claim{}, fmt.Errorf("check due: %s: %w", fieldDueAt, err)
		}
	}
	return c, nil
}

// CheckDueHandler decodes CheckDue messages and hands them to fn.
func CheckDueHandler(fn func(context.Context, task.Claim) error) Handler {
	return func(ctx context.Context, _, value []byte) error {
		var s structpb.Struct
		if err := proto.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("check due: unmarshal: %w", err)
		}
		c, err := DecodeCheckDue(&s)
		if err != nil {
			return err
		}
		return fn(ctx, c)
	}
}
