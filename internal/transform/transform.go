package transform

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"atlas/internal/atlaserr"
	"atlas/internal/domain"
)

// Transformer produces an ExportedDocument from a composition body under
// one of the two declared modes.
type Transformer interface {
	Transform(meta domain.CompositionMetadata, body domain.CompositionBody, engineVersion string, exportMode string) (domain.ExportedDocument, error)
}

// New returns a Transformer for mode.
func New(mode domain.TransformMode) Transformer {
	switch mode {
	case domain.TransformFlatten:
		return flattenTransformer{}
	default:
		return preserveTransformer{}
	}
}

func envelope(meta domain.CompositionMetadata, engineVersion, exportMode string) domain.ExportEnvelope {
	return domain.ExportEnvelope{
		EhrId:          meta.EhrId,
		CompositionUid: meta.Uid,
		TemplateId:     meta.TemplateId,
		TimeCommitted:  meta.TimeCommitted,
		ExportMode:     exportMode,
		EngineVersion:  engineVersion,
	}
}

func validateBody(uid domain.CompositionUid, body domain.CompositionBody) error {
	if len(body) == 0 {
		return atlaserr.New(atlaserr.KindTransformation, "transform.validate", string(uid), fmt.Errorf("composition body is empty"))
	}
	return nil
}

// preserveTransformer emits the FLAT body verbatim under a content field.
type preserveTransformer struct{}

func (preserveTransformer) Transform(meta domain.CompositionMetadata, body domain.CompositionBody, engineVersion, exportMode string) (domain.ExportedDocument, error) {
	if err := validateBody(meta.Uid, body); err != nil {
		return domain.ExportedDocument{}, err
	}
	if err := validateUnicode(meta.Uid, body, nil); err != nil {
		return domain.ExportedDocument{}, err
	}
	return domain.ExportedDocument{
		Envelope: envelope(meta, engineVersion, exportMode),
		Content:  map[string]any(body),
	}, nil
}

// flattenTransformer rewrites path-like keys by replacing "/" with "_",
// producing a single-level mapping of scalar-valued fields.
type flattenTransformer struct{}

func (flattenTransformer) Transform(meta domain.CompositionMetadata, body domain.CompositionBody, engineVersion, exportMode string) (domain.ExportedDocument, error) {
	if err := validateBody(meta.Uid, body); err != nil {
		return domain.ExportedDocument{}, err
	}

	flat := map[string]any{}
	origin := map[string][]string{} // flattened key -> original paths that produced it
	if err := flattenInto(nil, body, flat, origin); err != nil {
		return domain.ExportedDocument{}, atlaserr.New(atlaserr.KindTransformation, "transform.flatten", string(meta.Uid), err)
	}
	for key, paths := range origin {
		if len(paths) > 1 {
			sort.Strings(paths)
			return domain.ExportedDocument{}, atlaserr.New(atlaserr.KindTransformation, "transform.flatten", string(meta.Uid),
				fmt.Errorf("flattened key %q collides across paths %v", key, paths))
		}
	}
	if err := validateUnicode(meta.Uid, body, nil); err != nil {
		return domain.ExportedDocument{}, err
	}

	return domain.ExportedDocument{
		Envelope: envelope(meta, engineVersion, exportMode),
		Content:  flat,
	}, nil
}

// flattenInto recursively walks node, writing scalar leaves into out under
// their flattened path and recording which original path produced each
// flattened key so collisions can be detected after the full walk.
func flattenInto(path Path, node any, out map[string]any, origin map[string][]string) error {
	m, ok := node.(map[string]any)
	if !ok {
		key := path.Flattened()
		out[key] = canonicalScalar(node)
		origin[key] = append(origin[key], path.Join())
		return nil
	}
	for k, v := range m {
		if err := flattenInto(path.Child(k), v, out, origin); err != nil {
			return err
		}
	}
	return nil
}

// canonicalScalar serializes a non-scalar leaf to its canonical string
// form; scalars pass through unchanged.
func canonicalScalar(v any) any {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64, nil:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// validateUnicode walks node looking for string leaves containing invalid
// UTF-8 sequences, which fail the composition per spec §4.3.
func validateUnicode(uid domain.CompositionUid, node any, path Path) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			if err := validateUnicode(uid, child, path.Child(k)); err != nil {
				return err
			}
		}
	case string:
		if !utf8.ValidString(v) {
			return atlaserr.New(atlaserr.KindTransformation, "transform.encoding", string(uid),
				fmt.Errorf("invalid utf-8 sequence at path %q", path.Join()))
		}
	}
	return nil
}
