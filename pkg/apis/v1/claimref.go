/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1

// claimPendingSentinel is the wire form written by the tick engine when it promotes a
// message without a concrete owner. It only exists at the storage boundary; callers
// work with ClaimRef and never compare against this string.
const claimPendingSentinel = "gateway_pending"

// ClaimRef describes who, if anyone, owns delivery of a message. It is a three-way
// variant: unowned, pending pickup by any gateway, or owned by a specific gateway.
type ClaimRef struct {
	pending   bool
	gatewayID string
}

// Unowned returns the ClaimRef for a message no gateway is responsible for.
func Unowned() ClaimRef {
	return ClaimRef{}
}

// Pending returns the ClaimRef set by the tick engine: admitted into delivery, waiting
// for the first gateway to pick it up.
func Pending() ClaimRef {
	return ClaimRef{pending: true}
}

// OwnedBy returns the ClaimRef for a message a specific gateway is delivering.
// An empty gateway id yields Unowned.
func OwnedBy(gatewayID string) ClaimRef {
	if gatewayID == "" {
		return ClaimRef{}
	}
	return ClaimRef{gatewayID: gatewayID}
}

// ParseClaimRef decodes the nullable claimed_by column into a ClaimRef.
func ParseClaimRef(claimedBy *string) ClaimRef {
	if claimedBy == nil {
		return Unowned()
	}
	if *claimedBy == claimPendingSentinel {
		return Pending()
	}
	return OwnedBy(*claimedBy)
}

// IsReservedGatewayID reports whether a gateway identifier collides with internal
// claim encoding and must be rejected at the API boundary.
func IsReservedGatewayID(gatewayID string) bool {
	return gatewayID == claimPendingSentinel
}

// IsUnowned reports whether no gateway is responsible for the message.
func (c ClaimRef) IsUnowned() bool {
	return !c.pending && c.gatewayID == ""
}

// IsPending reports whether the message awaits pickup by any gateway.
func (c ClaimRef) IsPending() bool {
	return c.pending
}

// GatewayID returns the owning gateway id and whether one exists.
func (c ClaimRef) GatewayID() (string, bool) {
	return c.gatewayID, c.gatewayID != ""
}

// Value encodes the ClaimRef into the nullable claimed_by column form.
func (c ClaimRef) Value() *string {
	switch {
	case c.pending:
		s := claimPendingSentinel
		return &s
	case c.gatewayID != "":
		s := c.gatewayID
		return &s
	default:
		return nil
	}
}

func (c ClaimRef) String() string {
	switch {
	case c.pending:
		return claimPendingSentinel
	case c.gatewayID != "":
		return c.gatewayID
	default:
		return ""
	}
}
