package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/HendryAvila/trellis/internal/errs"
	"github.com/HendryAvila/trellis/internal/object"
	"github.com/HendryAvila/trellis/internal/security"
	"github.com/go-playground/validator/v10"
)

// schemaValidate is the shared validator instance for objects.
// Initialized in init() with the custom rules below.
var schemaValidate *validator.Validate

func init() {
	schemaValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields under their front-matter names.
	schemaValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = schemaValidate.RegisterValidation("trellis_kind", func(fl validator.FieldLevel) bool {
		return object.ValidateKind(object.Kind(fl.Field().String())) == nil
	})
	_ = schemaValidate.RegisterValidation("trellis_status", func(fl validator.FieldLevel) bool {
		return object.ValidateStatus(object.Status(fl.Field().String())) == nil
	})
	_ = schemaValidate.RegisterValidation("trellis_priority", func(fl validator.FieldLevel) bool {
		return object.ValidatePriority(object.Priority(fl.Field().String())) == nil
	})
	_ = schemaValidate.RegisterValidation("trellis_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		_, prefixed := object.PrefixKind(id)
		return prefixed && security.ValidateID(id) == nil
	})
	_ = schemaValidate.RegisterValidation("trellis_schema_version", func(fl validator.FieldLevel) bool {
		_, _, ok := parseVersion(fl.Field().String())
		return ok
	})
}

// ValidateSchema checks required fields, enum membership and the per-kind
// shape rules, and returns every failure in one SchemaValidationError.
func ValidateSchema(obj *object.Object) error {
	if obj == nil {
		return &errs.SchemaValidationError{Issues: []errs.FieldIssue{{Field: "object", Message: "is missing"}}}
	}
	out := &errs.SchemaValidationError{ObjectID: obj.ID}

	if err := schemaValidate.Struct(obj); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("validating schema: %w", err)
		}
		for _, fe := range verrs {
			out.Add(fieldName(fe), describe(fe))
		}
	}

	if object.ValidateKind(obj.Kind) == nil {
		kindRules(obj, out)
	}

	if len(out.Issues) == 0 {
		return nil
	}
	return out
}

func kindRules(obj *object.Object, out *errs.SchemaValidationError) {
	if obj.ID != "" {
		if err := object.CheckPrefix(obj.Kind, obj.ID); err != nil {
			out.Add("id", err.Error())
		}
	}

	switch obj.Kind {
	case object.KindProject:
		if obj.ParentID() != "" {
			out.Add("parent", "projects cannot have a parent")
		}
	case object.KindEpic, object.KindFeature:
		if obj.ParentID() == "" {
			pk, _ := obj.Kind.ParentKind()
			out.Add("parent", fmt.Sprintf("is required for a %s (must reference a %s)", obj.Kind, pk))
		}
	case object.KindTask:
		if obj.ParentID() == "" && obj.SchemaVersion != "" && !AtLeast(obj.SchemaVersion, 1, 1) {
			out.Add("parent", "standalone tasks require schema_version 1.1 or later")
		}
	}

	for i, p := range obj.Prerequisites {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if object.NormalizeRef(p) == obj.ID && obj.ID != "" {
			out.Add(fmt.Sprintf("prerequisites[%d]", i), "an object cannot require itself")
		}
	}
}

func fieldName(fe validator.FieldError) string {
	// Namespace is "Object.prerequisites[0]"; drop the struct name.
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "trellis_kind":
		return fmt.Sprintf("invalid kind %q: must be one of: project, epic, feature, task", fe.Value())
	case "trellis_status":
		return fmt.Sprintf("invalid status %q: must be one of: open, in-progress, review, done, deleted", fe.Value())
	case "trellis_priority":
		return fmt.Sprintf("invalid priority %q: must be one of: high, normal, low", fe.Value())
	case "trellis_id":
		return fmt.Sprintf("invalid id %q: needs a P-, E-, F- or T- prefix and only [A-Za-z0-9._-]", fe.Value())
	case "trellis_schema_version":
		return fmt.Sprintf("invalid schema_version %q: expected MAJOR.MINOR", fe.Value())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// parseVersion parses "MAJOR.MINOR" (a bare "MAJOR" means minor 0).
func parseVersion(v string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) == 0 || len(parts) > 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, 0, false
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(parts[1])
		if err != nil || minor < 0 {
			return 0, 0, false
		}
	}
	return major, minor, true
}

// AtLeast reports whether version v is at least major.minor.
func AtLeast(v string, major, minor int) bool {
	ma, mi, ok := parseVersion(v)
	if !ok {
		return false
	}
	return ma > major || (ma == major && mi >= minor)
}
