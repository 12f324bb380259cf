// Identity of a volume as seen by the storage layer. Volumes themselves are owned by the
// cluster-level logic, we derive dataset names from them.
package volume

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type Identity interface {
	OwnerID() string // ASCII-safe token
	EncodedName() string
	LocallyOwned() bool
}

// namespace + id, e.g. "default.postgres-data"
type Name struct {
	Namespace string
	ID        string
}

const defaultNamespace = "default"

// accepts "id" or "namespace.id"
func ParseName(serialized string) (Name, error) {
	if serialized == "" {
		return Name{}, errors.New("empty volume name")
	}

	namespace, id, hasNamespace := strings.Cut(serialized, ".")
	if !hasNamespace {
		namespace, id = defaultNamespace, serialized
	}

	name := Name{Namespace: namespace, ID: id}

	return name, name.validate()
}

func (n Name) Encode() string {
	return n.Namespace + "." + n.ID
}

var (
	validNamePart = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)
	// no "." b/c it separates owner from name in dataset names, no "/" b/c it'd nest datasets
	validOwnerID = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)
)

func ValidateOwnerID(owner string) error {
	if !validOwnerID.MatchString(owner) {
		return fmt.Errorf("invalid owner id: %q", owner)
	}

	return nil
}

func (n Name) validate() error {
	if !validNamePart.MatchString(n.Namespace) {
		return fmt.Errorf("invalid volume namespace: %q", n.Namespace)
	}

	if !validNamePart.MatchString(n.ID) {
		return fmt.Errorf("invalid volume id: %q", n.ID)
	}

	return nil
}

// a volume as seen from the node localNodeID
type Volume struct {
	Owner       string
	Name        Name
	localNodeID string
}

var _ Identity = (*Volume)(nil)

func New(owner string, name Name, localNodeID string) *Volume {
	return &Volume{
		Owner:       owner,
		Name:        name,
		localNodeID: localNodeID,
	}
}

func (v *Volume) OwnerID() string {
	return v.Owner
}

func (v *Volume) EncodedName() string {
	return v.Name.Encode()
}

func (v *Volume) LocallyOwned() bool {
	return v.Owner == v.localNodeID
}

// same volume, handed to another node
func (v *Volume) WithOwner(owner string) *Volume {
	return New(owner, v.Name, v.localNodeID)
}

// "<ownerId>.<encoded name>"
func DatasetName(vol Identity) string {
	return vol.OwnerID() + "." + vol.EncodedName()
}
