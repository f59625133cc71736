// Package mocks provides mock implementations of the aerokit transport
// interfaces for use with github.com/stretchr/testify/mock.
//
// # Basic Usage
//
// Mock the transport to drive the client without a cluster:
//
//	func TestProfileService(t *testing.T) {
//	    transport := new(mocks.MockTransport)
//	    conn := new(mocks.MockConn)
//
//	    transport.On("Open", mock.Anything).Return(conn, nil)
//	    conn.On("Exchange", mock.Anything, mock.Anything).Return(&core.Response{}, nil)
//	    conn.On("Close").Return(nil).Maybe()
//
//	    client, err := aerokit.New(session.DefaultConfig(), aerokit.WithTransport(transport))
//	    ...
//	    transport.AssertExpectations(t)
//	    conn.AssertExpectations(t)
//	}
//
// # Streams
//
// Query results come from a RecordStream. NewRecordStream returns a stream
// that serves a fixed slice of records and then io.EOF:
//
//	conn.On("Stream", mock.Anything, mock.Anything).Return(mocks.NewRecordStream(records...), nil)
//
// # Tips
//
// 1. Use mock.Anything when you don't need to assert on specific arguments
// 2. Use mock.MatchedBy to assert on the compiled *core.Request
// 3. Always assert expectations were met with AssertExpectations
package mocks

// Helper type aliases for convenience
type (
	// Transport is an alias for MockTransport to allow shorter declarations
	Transport = MockTransport

	// Conn is an alias for MockConn to allow shorter declarations
	Conn = MockConn

	// RecordStream is an alias for MockRecordStream to allow shorter declarations
	RecordStream = MockRecordStream
)
