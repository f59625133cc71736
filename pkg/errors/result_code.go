package errors

import (
	"errors"
	"fmt"
)

// ResultCode is the numeric status returned by the cluster for each command.
type ResultCode int

// Result codes used by the server protocol.
const (
	ResultOK                   ResultCode = 0
	ResultServerError          ResultCode = 1
	ResultKeyNotFound          ResultCode = 2
	ResultGeneration           ResultCode = 3
	ResultParameter            ResultCode = 4
	ResultKeyExists            ResultCode = 5
	ResultBinExists            ResultCode = 6
	ResultClusterKeyMismatch   ResultCode = 7
	ResultServerMem            ResultCode = 8
	ResultTimeout              ResultCode = 9
	ResultAlwaysForbidden      ResultCode = 10
	ResultPartitionUnavailable ResultCode = 11
	ResultBinType              ResultCode = 12
	ResultRecordTooBig         ResultCode = 13
	ResultKeyBusy              ResultCode = 14
	ResultScanAbort            ResultCode = 15
	ResultUnsupportedFeature   ResultCode = 16
	ResultBinNotFound          ResultCode = 17
	ResultDeviceOverload       ResultCode = 18
	ResultKeyMismatch          ResultCode = 19
	ResultInvalidNamespace     ResultCode = 20
	ResultBinNameTooLong       ResultCode = 21
	ResultFailForbidden        ResultCode = 22
	ResultElementNotFound      ResultCode = 23
	ResultElementExists        ResultCode = 24
	ResultEnterpriseOnly       ResultCode = 25
	ResultOpNotApplicable      ResultCode = 26
	ResultFilteredOut          ResultCode = 27
	ResultLostConflict         ResultCode = 28
	ResultXDRKeyBusy           ResultCode = 32
	ResultQueryEnd             ResultCode = 50
	ResultSecurityNotSupported ResultCode = 51
	ResultSecurityNotEnabled   ResultCode = 52
	ResultInvalidUser          ResultCode = 60
	ResultNotAuthenticated     ResultCode = 80
	ResultRoleViolation        ResultCode = 81
	ResultUDFBadResponse       ResultCode = 100
	ResultBatchDisabled        ResultCode = 150
	ResultInvalidGeoJSON       ResultCode = 160
	ResultIndexFound           ResultCode = 200
	ResultIndexNotFound        ResultCode = 201
	ResultQueryAborted         ResultCode = 210
)

type codeInfo struct {
	name     string
	sentinel error
}

var resultCodes = map[ResultCode]codeInfo{
	ResultServerError:          {"ServerError", ErrServer},
	ResultKeyNotFound:          {"RecordNotFound", ErrRecordNotFound},
	ResultGeneration:           {"RecordGenerationError", ErrGeneration},
	ResultParameter:            {"ParameterError", ErrParameter},
	ResultKeyExists:            {"RecordExistsError", ErrRecordExists},
	ResultBinExists:            {"BinExistsError", ErrBinExists},
	ResultClusterKeyMismatch:   {"ClusterKeyMismatch", ErrServer},
	ResultServerMem:            {"ServerMemError", ErrServerMemory},
	ResultTimeout:              {"ServerTimeout", ErrServerTimeout},
	ResultAlwaysForbidden:      {"AlwaysForbidden", ErrForbidden},
	ResultPartitionUnavailable: {"PartitionUnavailable", ErrPartitionUnavailable},
	ResultBinType:              {"BinTypeError", ErrBinType},
	ResultRecordTooBig:         {"RecordTooBig", ErrRecordTooBig},
	ResultKeyBusy:              {"KeyBusy", ErrKeyBusy},
	ResultScanAbort:            {"ScanAbort", ErrScanAborted},
	ResultUnsupportedFeature:   {"UnsupportedFeature", ErrUnsupportedFeature},
	ResultBinNotFound:          {"BinNotFound", ErrBinNotFound},
	ResultDeviceOverload:       {"DeviceOverload", ErrDeviceOverload},
	ResultKeyMismatch:          {"KeyMismatch", ErrKeyMismatch},
	ResultInvalidNamespace:     {"InvalidNamespace", ErrInvalidNamespace},
	ResultBinNameTooLong:       {"BinNameError", ErrBinNameTooLong},
	ResultFailForbidden:        {"FailForbidden", ErrForbidden},
	ResultElementNotFound:      {"ElementNotFound", ErrServer},
	ResultElementExists:        {"ElementExists", ErrServer},
	ResultEnterpriseOnly:       {"EnterpriseOnly", ErrUnsupportedFeature},
	ResultOpNotApplicable:      {"OpNotApplicable", ErrParameter},
	ResultFilteredOut:          {"FilteredOut", ErrFilteredOut},
	ResultLostConflict:         {"LostConflict", ErrLostConflict},
	ResultXDRKeyBusy:           {"XDRKeyBusy", ErrKeyBusy},
	ResultQueryEnd:             {"QueryEnd", ErrServer},
	ResultSecurityNotSupported: {"SecurityNotSupported", ErrSecurity},
	ResultSecurityNotEnabled:   {"SecurityNotEnabled", ErrSecurity},
	ResultInvalidUser:          {"InvalidUser", ErrSecurity},
	ResultNotAuthenticated:     {"NotAuthenticated", ErrNotAuthenticated},
	ResultRoleViolation:        {"RoleViolation", ErrRoleViolation},
	ResultUDFBadResponse:       {"UDFError", ErrUDF},
	ResultBatchDisabled:        {"BatchDisabled", ErrBatchDisabled},
	ResultInvalidGeoJSON:       {"InvalidGeoJSON", ErrInvalidGeoJSON},
	ResultIndexFound:           {"IndexFoundError", ErrIndexFound},
	ResultIndexNotFound:        {"IndexNotFound", ErrIndexNotFound},
	ResultQueryAborted:         {"QueryAbortedError", ErrQueryAborted},
}

// Name returns the stable taxonomy name of the code.
func (c ResultCode) Name() string {
	if c == ResultOK {
		return "OK"
	}
	if info, ok := resultCodes[c]; ok {
		return info.name
	}
	return "ServerError"
}

func (c ResultCode) String() string {
	return fmt.Sprintf("%s(%d)", c.Name(), int(c))
}

// Sentinel returns the error sentinel for the code, or nil for ResultOK.
func (c ResultCode) Sentinel() error {
	if c == ResultOK {
		return nil
	}
	if info, ok := resultCodes[c]; ok {
		return info.sentinel
	}
	return ErrServer
}

// ServerError is a non-OK result code returned by the cluster.
type ServerError struct {
	Code ResultCode
	// InDoubt is set when a write may have been applied before the failure.
	InDoubt bool
	Node    string
	Msg     string
}

func (e *ServerError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.Sentinel().Error()
	}
	if e.InDoubt {
		return fmt.Sprintf("server error %s: %s (in doubt)", e.Code, msg)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, msg)
}

// Unwrap maps the code to its sentinel so errors.Is works on the taxonomy.
func (e *ServerError) Unwrap() error {
	return e.Code.Sentinel()
}

// FromResultCode returns nil for ResultOK and a *ServerError otherwise.
func FromResultCode(code ResultCode, inDoubt bool) error {
	if code == ResultOK {
		return nil
	}
	return &ServerError{Code: code, InDoubt: inDoubt}
}

// ResultCodeOf extracts the server result code from err.
func ResultCodeOf(err error) (ResultCode, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return ResultOK, false
}

// IsInDoubt reports whether err is a server error flagged in doubt.
func IsInDoubt(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.InDoubt
}
