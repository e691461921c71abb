package apperr

var (
	ErrDuplicateEmail     = New(CodeAlreadyExists, "email is already registered")
	ErrExternalIDTaken    = New(CodeAlreadyExists, "external id is already taken")
	ErrInvalidCredentials = New(CodeUnauthenticated, "invalid credentials")
	ErrKeyGeneration      = New(CodeInternal, "key generation failed")
	ErrEncryption         = New(CodeInternal, "encryption failed")
	ErrDecryption         = New(CodeInternal, "decryption failed")
	ErrSigning            = New(CodeInternal, "signing failed")
	ErrPasswordDerivation = New(CodeInternal, "password derivation failed")
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrKeysPending        = New(CodeFailedPrecondition, "identity has no key material")
	ErrInvalidArgument    = New(CodeInvalidArgument, "invalid argument")
	ErrSchemaTooNew       = New(CodeFailedPrecondition, "store schema is newer than this build supports")
)
