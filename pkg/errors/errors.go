package errors

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type InstrumentMetadata struct {
	Instrument string `json:"instrument"`
}

type AssetMetadata struct {
	Asset      uint64 `json:"asset"`
	Instrument string `json:"instrument,omitempty"`
}

type IndexMetadata struct {
	Index uint64 `json:"index"`
	Size  uint64 `json:"size"`
}

type TransferMetadata struct {
	Asset  uint64 `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Caller string `json:"caller,omitempty"`
}

type PaymentMetadata struct {
	Recipient  string `json:"recipient"`
	Instrument string `json:"instrument"`
	Amount     uint64 `json:"amount"`
}

type OverflowMetadata struct {
	Op string `json:"op"`
	A  uint64 `json:"a"`
	B  uint64 `json:"b"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}

var UNAUTHORIZED = Code[map[string]any]{1, "UNAUTHORIZED", grpccodes.PermissionDenied}

var UNKNOWN_INSTRUMENT = Code[InstrumentMetadata]{
	2,
	"UNKNOWN_INSTRUMENT",
	grpccodes.NotFound,
}

var INSTRUMENT_NOT_ACCEPTED = Code[InstrumentMetadata]{
	3,
	"INSTRUMENT_NOT_ACCEPTED",
	grpccodes.FailedPrecondition,
}

var INDEX_OUT_OF_RANGE = Code[IndexMetadata]{4, "INDEX_OUT_OF_RANGE", grpccodes.OutOfRange}

var NOT_OWNER_NOR_APPROVED = Code[TransferMetadata]{
	5,
	"NOT_OWNER_NOR_APPROVED",
	grpccodes.PermissionDenied,
}

var TRANSFER_REJECTED = Code[TransferMetadata]{6, "TRANSFER_REJECTED", grpccodes.Aborted}

var PAYMENT_TRANSFER_FAILED = Code[PaymentMetadata]{
	7,
	"PAYMENT_TRANSFER_FAILED",
	grpccodes.Aborted,
}

var ARITHMETIC_OVERFLOW = Code[OverflowMetadata]{
	8,
	"ARITHMETIC_OVERFLOW",
	grpccodes.OutOfRange,
}

var UNKNOWN_ASSET = Code[AssetMetadata]{9, "UNKNOWN_ASSET", grpccodes.NotFound}

var INVALID_ARGUMENT = Code[map[string]any]{10, "INVALID_ARGUMENT", grpccodes.InvalidArgument}
