// Copyright 2025 The tablesync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"fmt"

	"github.com/apex/log"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/nikonline-oss/tablesync/common"
)

// Identity an authenticated caller. The sync core trusts this identity and
// never sees the token it came from.
type Identity struct {
	// UserID is the caller's user identifier
	UserID string
}

// TokenValidator verifies a caller-supplied credential and resolves it to
// an identity
type TokenValidator interface {
	Validate(token string) (Identity, error)
}

// jwtTokenValidator implements TokenValidator for HS256 signed JWTs
type jwtTokenValidator struct {
	common.Component
	secret []byte
}

// DefineJWTTokenValidator create new JWT token validator
func DefineJWTTokenValidator(secret string) (TokenValidator, error) {
	logTags := log.Fields{
		"module": "auth", "component": "jwt-validator",
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("JWT validator requires a non-empty secret")
	}
	return &jwtTokenValidator{
		Component: common.Component{LogTags: logTags},
		secret:    []byte(secret),
	}, nil
}

// Validate verify the token signature and expiry, and resolve the subject
// claim to the caller identity
func (v *jwtTokenValidator) Validate(token string) (Identity, error) {
	parsed, err := gojwt.Parse(token, func(t *gojwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		log.WithError(err).WithFields(v.LogTags).Debug("Token rejected")
		return Identity{}, err
	}
	subject, err := parsed.Claims.GetSubject()
	if err != nil {
		log.WithError(err).WithFields(v.LogTags).Debug("Token missing subject")
		return Identity{}, err
	}
	if subject == "" {
		return Identity{}, fmt.Errorf("token carries no subject claim")
	}
	return Identity{UserID: subject}, nil
}
