package auth

// ServiceAuthenticator decides, given a publisher's service token and its
// declared service name, whether that service may publish at all.
// Channel-to-service matching is checked separately, in internal/channel.
type ServiceAuthenticator interface {
	Authenticate(serviceToken, declaredService string) bool
}

// StaticServiceAuthenticator is the reference implementation: a fixed
// token-to-service map loaded from configuration. A token authenticates
// only the service name it is bound to.
type StaticServiceAuthenticator struct {
	tokenToService map[string]string
}

// NewStaticServiceAuthenticator builds an authenticator from a token->service
// map, typically config.Config.ServiceTokenMap().
func NewStaticServiceAuthenticator(tokenToService map[string]string) *StaticServiceAuthenticator {
	return &StaticServiceAuthenticator{tokenToService: tokenToService}
}

func (a *StaticServiceAuthenticator) Authenticate(serviceToken, declaredService string) bool {
	if serviceToken == "" || declaredService == "" {
		return false
	}
	service, ok := a.tokenToService[serviceToken]
	return ok && service == declaredService
}
