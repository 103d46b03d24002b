package errs

const (
	BizCodeInvalidParams = 1001

	BizCodeUpdateNotFound = 7001
	BizCodeArchiveInvalid = 7002
)
