package cd

import "testing"

func FuzzValidateCommandEnvelope(f *testing.F) {
	f.Add("id", "type", int64(1), "from", "{}")
	f.Add("", "", int64(0), "", "")

	f.Fuzz(func(t *testing.T, id string, typ string, ts int64, from string, body string) {
		cmd := CommandEnvelope{
			ID:   id,
			Type: typ,
			TS:   ts,
			From: from,
			Body: []byte(body),
		}
		_ = ValidateCommandEnvelope(cmd)
	})
}

func FuzzSplitObjectID(f *testing.F) {
	f.Add("0")
	f.Add("0$uprcl$folders$d3")
	f.Add("0$uprcl$=Artist$7$albums")
	f.Add("garbage")

	f.Fuzz(func(t *testing.T, objid string) {
		_, _, _ = SplitObjectID(objid)
	})
}
