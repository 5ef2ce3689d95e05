// Package wire defines the device status codes and the error taxonomy shared
// by both camera transports.
//
// The request/response transport returns a status string as the first CSV
// field or as the <result> element of an XML body:
//
//	ok          -> StatusOK
//	err_busy    -> StatusBusy (retried by the executor)
//	err_param   -> StatusInvalidParameter
//	err_reject  -> StatusRejected
//	other       -> StatusUnknown
//
// The register transport has no status field; a completed register operation
// is StatusOK and every failure is a TransportError.
package wire
