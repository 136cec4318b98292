package core

var (
	_ CredentialSource = (*Service)(nil)
	_ CredentialSource = (*RefreshCoordinator)(nil)
	_ CredentialStore  = (*MemoryCredentialStore)(nil)
	_ CredentialCodec  = JSONCredentialCodec{}
	_ CredentialCodec  = LegacyTokenCredentialCodec{}
)
