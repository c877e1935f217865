package geom

import (
	"math"
	"testing"
)

func TestQuaternion(t *testing.T) {
	const eps = 0.000001

	{
		q := NewQuaternion(0, 0, 0, 1)
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		q := NewQuaternionFromAxisAngle(NewVector3(1, 0, 0), 2*math.Pi)
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		q := NewQuaternionFromAxisAngle(NewVector3(1, 0, 0), math.Pi)
		q = q.Mul(q)
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		q := NewQuaternionFromAxisAngle(NewVector3(1, 2, 3).Normalize(), 1.5)
		q = q.Mul(q.Inverse())
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}
}

func TestQuaternionAxisAngle(t *testing.T) {
	const eps = 0.000001

	q := NewQuaternionFromAxisAngle(NewVector3(0, 0, 1), math.Pi/2)
	v := q.ApplyTo(NewVector3(1, 0, 0))
	if v.Sub(NewVector3(0, 1, 0)).Len() > eps {
		t.Error("rotate X by 90 deg around Z: ", v)
	}

	if q.Len() > 1+eps || q.Len() < 1-eps {
		t.Error("not unit: ", q)
	}
}
