package dedup

import (
	"sync"

	"github.com/AnyUserName/avifbatch/internal/hasher"
)

// claim is the job owning a digest and, once it has written, its output.
type claim struct {
	owner        string
	output       string
	outputDigest hasher.Digest
	done         bool
}

// Index records which job owns each source digest during one run. It is the
// only state shared between workers.
type Index struct {
	mu     sync.Mutex
	claims map[hasher.Digest]claim
}

func NewIndex() *Index {
	return &Index{claims: make(map[hasher.Digest]claim)}
}

// Claim makes jobID the owner of d unless another job already holds it. It
// returns the current owner and whether the caller became it.
//
// A claim whose owner has finished only holds while the owner's output is
// still on disk with the bytes it wrote. Once that output is gone or was
// overwritten, for instance by a later version of the same file in watch
// mode, the next job with this content takes the claim over.
func (ix *Index) Claim(d hasher.Digest, jobID string) (owner string, claimed bool) {
	ix.mu.Lock()
	cur, ok := ix.claims[d]
	ix.mu.Unlock()

	// Hash outside the lock; the swap below only happens if nobody changed
	// the claim meanwhile.
	stale := ok && cur.done && cur.owner != jobID && !intact(cur.output, cur.outputDigest)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if now, ok := ix.claims[d]; ok {
		if !stale || now != cur {
			return now.owner, now.owner == jobID
		}
	}
	ix.claims[d] = claim{owner: jobID}
	return jobID, true
}

// Complete records that jobID wrote output with the given digest. Later
// claims on d stay duplicates only while that file is intact.
func (ix *Index) Complete(d hasher.Digest, jobID, output string, outputDigest hasher.Digest) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.claims[d].owner == jobID {
		ix.claims[d] = claim{owner: jobID, output: output, outputDigest: outputDigest, done: true}
	}
}

// Release drops jobID's claim on d. Claims held by other jobs are untouched.
func (ix *Index) Release(d hasher.Digest, jobID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.claims[d].owner == jobID {
		delete(ix.claims, d)
	}
}

// Len returns the number of claimed digests.
func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.claims)
}
