package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Field
		wantErr error
	}{
		{
			name: "plain text",
			spec: "text",
			want: Field{Name: "value", Kind: KindText},
		},
		{
			name: "required int",
			spec: "int!",
			want: Field{Name: "value", Kind: KindInt, Required: true},
		},
		{
			name: "explicitly optional real",
			spec: "real?",
			want: Field{Name: "value", Kind: KindReal},
		},
		{
			name: "id is unique",
			spec: "id",
			want: Field{Name: "value", Kind: KindID, Unique: true},
		},
		{
			name: "unknown tag becomes foreign key",
			spec: "parent!",
			want: Field{Name: "value", Kind: KindEntity, Ref: "parent", Required: true},
		},
		{
			name: "virtual foreign key",
			spec: "child*",
			want: Field{Name: "value", Kind: KindEntity, Ref: "child", Virtual: true},
		},
		{
			name: "tag case folds",
			spec: "TEXT",
			want: Field{Name: "value", Kind: KindText},
		},
		{
			name:    "virtual flag on builtin kind",
			spec:    "text*",
			wantErr: ErrInvalidField,
		},
		{
			name:    "empty spec",
			spec:    "",
			wantErr: ErrInvalidField,
		},
		{
			name:    "flags only",
			spec:    "!*",
			wantErr: ErrInvalidField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseField("Value", tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldValidate(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		wantErr error
	}{
		{name: "valid text", field: Field{Name: "title", Kind: KindText}},
		{name: "valid fkey", field: Field{Name: "owner", Kind: KindEntity, Ref: "user"}},
		{name: "unnamed", field: Field{Kind: KindText}, wantErr: ErrInvalidField},
		{name: "uppercase name", field: Field{Name: "Title", Kind: KindText}, wantErr: ErrInvalidField},
		{name: "reserved rowid", field: Field{Name: "rowid", Kind: KindInt}, wantErr: ErrReservedName},
		{name: "bogus kind", field: Field{Name: "x", Kind: "decimal"}, wantErr: ErrInvalidField},
		{name: "fkey without target", field: Field{Name: "owner", Kind: KindEntity}, wantErr: ErrInvalidField},
		{name: "virtual non-entity", field: Field{Name: "x", Kind: KindText, Virtual: true}, wantErr: ErrInvalidField},
		{name: "ref on scalar kind", field: Field{Name: "x", Kind: KindText, Ref: "user"}, wantErr: ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.field.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKindSQLType(t *testing.T) {
	assert.Equal(t, "TEXT", KindText.SQLType())
	assert.Equal(t, "TEXT", KindJSON.SQLType())
	assert.Equal(t, "NUMERIC", KindNumeric.SQLType())
	assert.Equal(t, "INTEGER", KindInt.SQLType())
	assert.Equal(t, "INTEGER", KindID.SQLType())
	assert.Equal(t, "REAL", KindReal.SQLType())
	assert.Equal(t, "BLOB", KindBlob.SQLType())
	assert.Equal(t, "", KindEntity.SQLType())
}
