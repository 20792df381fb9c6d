package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Job represents a prompt request consumed from the input queue
type Job struct {
	FromUin  int64  `json:"from_uin"`
	SendTo   int64  `json:"send_to"`
	SendType string `json:"send_type"`
	Tag      string `json:"tag"`
	Uin      int64  `json:"uin"`
}

// jobEnvelope mirrors Job with pointers so absent fields can be told apart
// from zero values
type jobEnvelope struct {
	FromUin  *int64  `json:"from_uin"`
	SendTo   *int64  `json:"send_to"`
	SendType *string `json:"send_type"`
	Tag      *string `json:"tag"`
	Uin      *int64  `json:"uin"`
}

// DecodeJob parses a delivery body. Unknown fields are ignored; every Job
// field must be present and non-null.
func DecodeJob(body []byte) (*Job, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrInvalidJob)
	}

	var env jobEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	missing := func(field string) error {
		return fmt.Errorf("%w: missing field %q", ErrInvalidJob, field)
	}

	switch {
	case env.FromUin == nil:
		return nil, missing("from_uin")
	case env.SendTo == nil:
		return nil, missing("send_to")
	case env.SendType == nil:
		return nil, missing("send_type")
	case env.Tag == nil:
		return nil, missing("tag")
	case env.Uin == nil:
		return nil, missing("uin")
	}

	return &Job{
		FromUin:  *env.FromUin,
		SendTo:   *env.SendTo,
		SendType: *env.SendType,
		Tag:      *env.Tag,
		Uin:      *env.Uin,
	}, nil
}

// RoutingKey is the callback queue name of the bot that owns the job
func (j *Job) RoutingKey() string {
	return CallbackRoutingBase + strconv.FormatInt(j.Uin, 10)
}

// Headers builds the callback message headers. The ids stay int64 so the
// table encodes them as signed 64-bit values, and send_type as a long string.
func (j *Job) Headers() amqp.Table {
	return amqp.Table{
		HeaderSendTo:   j.SendTo,
		HeaderFromUin:  j.FromUin,
		HeaderSendType: j.SendType,
	}
}
