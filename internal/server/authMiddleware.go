package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

type actorContextKey struct{}

func setActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// getActor returns "" for unauthenticated requests; the inventory service rejects those.
func getActor(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

// authMw accepts either a HS256 bearer token whose subject is the actor, or a static API key
// matching one of the configured bcrypt hashes.
func (s Server) authMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := getTraceContext(r.Context()).traceID

		if lt := r.Header.Get("Authorization"); strings.HasPrefix(lt, "Bearer ") {
			lt = strings.TrimPrefix(lt, "Bearer ")
			token, err := jwt.Parse([]byte(lt), jwt.WithKey(jwa.HS256, s.AuthSecretKey), jwt.WithValidate(true))
			if err != nil {
				s.Logger.Debugf("authMw: Failed to validate login token, err: %v, TraceID: %s", err, tid)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if token.Subject() == "" {
				s.Logger.Debugf("authMw: Valid token contains no subject, TraceID: %s", tid)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			s.Logger.Debugf("authMw: Actor: %s from token, TraceID: %s", token.Subject(), tid)
			next.ServeHTTP(w, r.WithContext(setActor(r.Context(), token.Subject())))
			return
		}

		if key := r.Header.Get(apiKeyHeader); key != "" {
			for _, k := range s.APIKeys {
				if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) != nil {
					continue
				}
				s.Logger.Debugf("authMw: Actor: %s from API key, TraceID: %s", k.Actor, tid)
				next.ServeHTTP(w, r.WithContext(setActor(r.Context(), k.Actor)))
				return
			}
			s.Logger.Debugf("authMw: API key matches no configured key, TraceID: %s", tid)
		}
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}
