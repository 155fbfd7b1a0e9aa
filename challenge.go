// Copyright (C) 2026 The middleauth Authors.  All rights reserved.
//
// middleauth is licensed under the Apache License Version 2.0.

package middleauth

import (
	"fmt"
	"strings"
)

// challenge renders a WWW-Authenticate header value. The realm is always
// present; error and scope are appended only when set.
type challenge struct {
	Realm string
	Err   *OAuthError
	Scope []string
}

func (c challenge) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OAuth realm=%q", c.Realm)
	if c.Err != nil {
		fmt.Fprintf(&b, ", error=%q", c.Err.ErrorCode)
		if c.Err.Message != "" {
			fmt.Fprintf(&b, ", error_description=%q", c.Err.Message)
		}
	}
	if len(c.Scope) > 0 {
		fmt.Fprintf(&b, ", scope=%q", strings.Join(c.Scope, " "))
	}
	return b.String()
}
