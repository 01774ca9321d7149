package verifier

// Objective verifier process names. Each name doubles as the basename of the
// .sig/.mfotl spec pair the worker is launched with.
const (
	ObjAvailIaaS    = "avail-iaas"
	ObjAvailSaaS    = "avail-saas"
	ObjRelDefect    = "rel-defect"
	ObjRelFail      = "rel-fail"
	ObjResponse     = "response"
	ObjFailDetector = "fail-detector"
	ObjThroughput   = "reqs-throughput"
	ObjPckThrough   = "pck-throughput"
)

// Requirement verifier process names.
const (
	ReqProc1 = "req-1"
	ReqProc2 = "req-2"
	ReqProc3 = "req-3"
)

// Predicate patterns as they appear in trace lines. Arities are fixed by the
// verifier .sig files; callers must not reorder arguments.
const (
	PatternStatus       = "status"
	PatternTotalReqs    = "totalrequests"
	PatternDefect       = "defect"
	PatternDown         = "down"
	PatternResponseTime = "responsetime"
	PatternHeartbeat    = "heartbeat"
	PatternRequests     = "requests"
	PatternPackets      = "packets"
	PatternReq1         = "req1"
	PatternReq2         = "req2"
	PatternReq3         = "req3"
)

// RequirementProcForPattern maps a tier-2 trace pattern to the worker that
// evaluates it.
func RequirementProcForPattern(pattern string) (string, bool) {
	switch pattern {
	case PatternReq1:
		return ReqProc1, true
	case PatternReq2:
		return ReqProc2, true
	case PatternReq3:
		return ReqProc3, true
	}
	return "", false
}
